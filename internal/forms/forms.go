// Package forms validates user input before it reaches the network.
//
// Every failure is an *errs.FieldError naming the offending field by its document name, so callers
// can render field-level feedback and test with errors.Is(err, errs.ErrValidation).
package forms

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/go-playground/validator/v10"
)

var langRe = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("lang", func(fl validator.FieldLevel) bool {
		return langRe.MatchString(fl.Field().String())
	})
	// an empty photo URL clears the photo
	_ = v.RegisterValidation("photo", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || v.Var(s, "url") == nil
	})
	return v
}

// Login is the sign-in form.
type Login struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Register is the sign-up form.
type Register struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
}

type profilePatch struct {
	DisplayName *string  `json:"displayName" validate:"omitnil,max=200"`
	PhotoURL    *string  `json:"photoURL" validate:"omitnil,photo"`
	FirstName   *string  `json:"firstName" validate:"omitnil,min=1,max=100"`
	LastName    *string  `json:"lastName" validate:"omitnil,min=1,max=100"`
	Age         *int     `json:"age" validate:"omitnil,min=1,max=150"`
	Sex         *string  `json:"sex" validate:"omitnil,oneof=male female other"`
	Height      *float64 `json:"height" validate:"omitnil,min=1"`
	Weight      *float64 `json:"weight" validate:"omitnil,min=1"`
	Chest       *float64 `json:"chest" validate:"omitnil,min=0"`
	Hip         *float64 `json:"hip" validate:"omitnil,min=0"`
	Waist       *float64 `json:"waist" validate:"omitnil,min=0"`
	MuscleMass  *float64 `json:"muscleMass" validate:"omitnil,min=0"`
}

type units struct {
	Height string `json:"height" validate:"omitempty,oneof=cm ft-in"`
	Weight string `json:"weight" validate:"omitempty,oneof=kg lb"`
}

type language struct {
	Language string `json:"language" validate:"required,lang"`
}

type email struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// ValidateLogin checks a sign-in form.
func ValidateLogin(f Login) error { return check(f) }

// ValidateRegister checks a sign-up form.
func ValidateRegister(f Register) error { return check(f) }

// ValidateEmail checks a bare email address.
func ValidateEmail(addr string) error { return check(email{Email: addr}) }

// ValidateProfilePatch checks the set fields of p. The email field is immutable through profile updates
// and is ignored here.
func ValidateProfilePatch(p model.ProfilePatch) error {
	return check(profilePatch{
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Age:         p.Age,
		Sex:         p.Sex,
		Height:      p.Height,
		Weight:      p.Weight,
		Chest:       p.Chest,
		Hip:         p.Hip,
		Waist:       p.Waist,
		MuscleMass:  p.MuscleMass,
	})
}

// ValidateUnits checks a units update. At least one unit must be set.
func ValidateUnits(u model.Units) error {
	if u.Height == "" && u.Weight == "" {
		return errs.Validation("", "no unit given")
	}
	return check(units(u))
}

// ValidateLanguage checks a language tag such as "es" or "en-US".
func ValidateLanguage(lang string) error { return check(language{Language: lang}) }

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return fmt.Errorf("validate: %w", err)
	}
	fe := ves[0]
	return errs.Validation(fe.Field(), message(fe))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "url", "photo":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "lang":
		return "must be a language tag"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}

// BMI returns the body mass index for weight in kilograms and height in centimetres, adjusted by sex
// and rounded to two decimals. It returns 0 when either measurement is missing.
func BMI(weightKg, heightCm float64, sex string) float64 {
	if weightKg <= 0 || heightCm <= 0 {
		return 0
	}
	m := heightCm / 100
	bmi := weightKg / (m * m)
	if sex == "female" {
		bmi *= 0.97
	} else {
		bmi *= 1.03
	}
	return math.Round(bmi*100) / 100
}
