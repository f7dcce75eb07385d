package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fitsync.v1.FitSync"

// Full method names, as seen by interceptors.
const (
	MethodSignUp             = "/" + ServiceName + "/SignUp"
	MethodSignIn             = "/" + ServiceName + "/SignIn"
	MethodSignOut            = "/" + ServiceName + "/SignOut"
	MethodReauthenticate     = "/" + ServiceName + "/Reauthenticate"
	MethodRequestEmailChange = "/" + ServiceName + "/RequestEmailChange"
	MethodUpdateAccount      = "/" + ServiceName + "/UpdateAccount"
	MethodGetAccount         = "/" + ServiceName + "/GetAccount"
	MethodGetDocument        = "/" + ServiceName + "/GetDocument"
	MethodSetDocument        = "/" + ServiceName + "/SetDocument"
	MethodDeleteDocument     = "/" + ServiceName + "/DeleteDocument"
	MethodQueryDocuments     = "/" + ServiceName + "/QueryDocuments"
	MethodWatchDocument      = "/" + ServiceName + "/WatchDocument"
)

// PublicMethods do not require a bearer token.
var PublicMethods = map[string]bool{
	MethodSignUp: true,
	MethodSignIn: true,
}

// FitSyncServer is the server API.
type FitSyncServer interface {
	SignUp(context.Context, *SignUpRequest) (*AuthResponse, error)
	SignIn(context.Context, *SignInRequest) (*AuthResponse, error)
	SignOut(context.Context, *Empty) (*Empty, error)
	Reauthenticate(context.Context, *ReauthenticateRequest) (*AuthResponse, error)
	RequestEmailChange(context.Context, *RequestEmailChangeRequest) (*Empty, error)
	UpdateAccount(context.Context, *UpdateAccountRequest) (*AccountResponse, error)
	GetAccount(context.Context, *Empty) (*AccountResponse, error)
	GetDocument(context.Context, *GetDocumentRequest) (*DocumentResponse, error)
	SetDocument(context.Context, *SetDocumentRequest) (*DocumentResponse, error)
	DeleteDocument(context.Context, *DeleteDocumentRequest) (*Empty, error)
	QueryDocuments(context.Context, *QueryDocumentsRequest) (*QueryDocumentsResponse, error)
	WatchDocument(*WatchDocumentRequest, WatchDocumentServer) error
}

// WatchDocumentServer is the server side of the WatchDocument stream.
type WatchDocumentServer interface {
	Send(*DocumentResponse) error
	grpc.ServerStream
}

type watchDocumentServer struct{ grpc.ServerStream }

func (s *watchDocumentServer) Send(m *DocumentResponse) error { return s.ServerStream.SendMsg(m) }

func unary[Req, Resp any](name string, call func(FitSyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FitSyncServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FitSyncServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchDocumentHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchDocumentRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FitSyncServer).WatchDocument(in, &watchDocumentServer{stream})
}

// ServiceDesc describes the FitSync service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FitSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SignUp", FitSyncServer.SignUp),
		unary("SignIn", FitSyncServer.SignIn),
		unary("SignOut", FitSyncServer.SignOut),
		unary("Reauthenticate", FitSyncServer.Reauthenticate),
		unary("RequestEmailChange", FitSyncServer.RequestEmailChange),
		unary("UpdateAccount", FitSyncServer.UpdateAccount),
		unary("GetAccount", FitSyncServer.GetAccount),
		unary("GetDocument", FitSyncServer.GetDocument),
		unary("SetDocument", FitSyncServer.SetDocument),
		unary("DeleteDocument", FitSyncServer.DeleteDocument),
		unary("QueryDocuments", FitSyncServer.QueryDocuments),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchDocument",
			Handler:       watchDocumentHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fitsync/v1/fitsync.json",
}

// RegisterFitSyncServer registers srv on s.
func RegisterFitSyncServer(s grpc.ServiceRegistrar, srv FitSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}
