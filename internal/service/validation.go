package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sakif/snippet-keeper/internal/apperror"
	"github.com/sakif/snippet-keeper/internal/auth"
)

// Input structs validated with go-playground/validator. Field names in
// errors come from the json tag, so they match what the client sent.

type registerInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,password"`
	Name     string `json:"name" validate:"required,max=100"`
	Image    string `json:"image" validate:"omitempty,url"`
}

type passwordInput struct {
	Password string `json:"password" validate:"required,password"`
}

type profileInput struct {
	Name  string `json:"name" validate:"required,max=100"`
	Image string `json:"image" validate:"omitempty,url"`
}

type snippetInput struct {
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
	Code        string `json:"code" validate:"max=100000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for an empty tag or nil func.
	if err := v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return auth.MeetsPasswordPolicy(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("service: registering password rule: %v", err))
	}
	return v
}

// validateInput returns nil or an *apperror.AppError of kind ErrValidation
// describing the first failing field.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("service: validating input: %w", err)
	}
	fe := fieldErrs[0]
	return apperror.ValidationFailed(fe.Field(), fieldMessage(fe))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return "Invalid email format"
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be %s characters or less", fe.Field(), fe.Param())
	case "password":
		return fmt.Sprintf("Password must be at least %d characters and include an uppercase letter, "+
			"a lowercase letter, a digit and a special character, with no spaces", auth.MinPasswordLength)
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
