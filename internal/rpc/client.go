package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client is the FitSync client stub. Every call uses the JSON codec and maps
// status errors back to errs sentinels.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return FromStatus(c.cc.Invoke(ctx, method, in, out, opts...))
}

// SignUp creates an account.
func (c *Client) SignUp(ctx context.Context, in *SignUpRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.invoke(ctx, MethodSignUp, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// SignIn authenticates.
func (c *Client) SignIn(ctx context.Context, in *SignInRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.invoke(ctx, MethodSignIn, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// SignOut ends the server side of the session.
func (c *Client) SignOut(ctx context.Context, opts ...grpc.CallOption) error {
	return c.invoke(ctx, MethodSignOut, &Empty{}, new(Empty), opts)
}

// Reauthenticate re-verifies the password and returns a token with a fresh auth time.
func (c *Client) Reauthenticate(ctx context.Context, in *ReauthenticateRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.invoke(ctx, MethodReauthenticate, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestEmailChange asks to change the account email.
func (c *Client) RequestEmailChange(ctx context.Context, in *RequestEmailChangeRequest, opts ...grpc.CallOption) error {
	return c.invoke(ctx, MethodRequestEmailChange, in, new(Empty), opts)
}

// UpdateAccount changes display name and photo URL.
func (c *Client) UpdateAccount(ctx context.Context, in *UpdateAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	out := new(AccountResponse)
	if err := c.invoke(ctx, MethodUpdateAccount, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccount returns the caller's account.
func (c *Client) GetAccount(ctx context.Context, opts ...grpc.CallOption) (*AccountResponse, error) {
	out := new(AccountResponse)
	if err := c.invoke(ctx, MethodGetAccount, &Empty{}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDocument reads one document.
func (c *Client) GetDocument(ctx context.Context, in *GetDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	out := new(DocumentResponse)
	if err := c.invoke(ctx, MethodGetDocument, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// SetDocument writes one document.
func (c *Client) SetDocument(ctx context.Context, in *SetDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	out := new(DocumentResponse)
	if err := c.invoke(ctx, MethodSetDocument, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDocument removes one document.
func (c *Client) DeleteDocument(ctx context.Context, in *DeleteDocumentRequest, opts ...grpc.CallOption) error {
	return c.invoke(ctx, MethodDeleteDocument, in, new(Empty), opts)
}

// QueryDocuments lists a collection.
func (c *Client) QueryDocuments(ctx context.Context, in *QueryDocumentsRequest, opts ...grpc.CallOption) (*QueryDocumentsResponse, error) {
	out := new(QueryDocumentsResponse)
	if err := c.invoke(ctx, MethodQueryDocuments, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchDocumentClient is the client side of the WatchDocument stream.
type WatchDocumentClient interface {
	Recv() (*DocumentResponse, error)
	grpc.ClientStream
}

type watchDocumentClient struct{ grpc.ClientStream }

func (x *watchDocumentClient) Recv() (*DocumentResponse, error) {
	m := new(DocumentResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, FromStatus(err)
	}
	return m, nil
}

// WatchDocument opens a snapshot stream.
func (c *Client) WatchDocument(ctx context.Context, in *WatchDocumentRequest, opts ...grpc.CallOption) (WatchDocumentClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodWatchDocument, opts...)
	if err != nil {
		return nil, FromStatus(err)
	}
	x := &watchDocumentClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, FromStatus(err)
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, FromStatus(err)
	}
	return x, nil
}
