package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/bodega/internal/api"
)

// businessOther is the business type that asks for a free-text description
const businessOther = "Otro"

// Business types as the backend stores them, with terminal labels
var businessTypes = []huh.Option[string]{
	huh.NewOption("Retail / store", "Retail/Tienda"),
	huh.NewOption("Manufacturing", "Manufactura"),
	huh.NewOption("Distribution / wholesale", "Distribución/Mayorista"),
	huh.NewOption("Services", "Servicios"),
	huh.NewOption("Other", businessOther),
}

// LoginInput holds the values of the login form
type LoginInput struct {
	Email    string
	Password string
}

// RegisterInput holds the values of the registration form
type RegisterInput struct {
	Email         string
	Password      string
	CompanyName   string
	BusinessType  string
	OtherBusiness string
}

// Request builds the registration body. "Other" is replaced by the
// description the user typed.
func (in RegisterInput) Request() api.RegisterRequest {
	business := in.BusinessType
	if business == businessOther {
		business = strings.TrimSpace(in.OtherBusiness)
	}
	return api.RegisterRequest{
		Email:        strings.TrimSpace(in.Email),
		Password:     in.Password,
		CompanyName:  strings.TrimSpace(in.CompanyName),
		BusinessType: business,
	}
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

var validate = validator.New()

func validEmail(s string) error {
	if err := required("email")(s); err != nil {
		return err
	}
	if err := validate.Var(strings.TrimSpace(s), "email"); err != nil {
		return fmt.Errorf("enter a valid email address")
	}
	return nil
}

// NewLoginForm builds the login form bound to in
func NewLoginForm(in *LoginInput) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&in.Email).
				Validate(validEmail),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&in.Password).
				Validate(required("password")),
		).Title("Log in"),
	).WithShowHelp(false)
}

// NewRegisterForm builds the registration form bound to in
func NewRegisterForm(in *RegisterInput) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&in.Email).
				Validate(validEmail),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&in.Password).
				Validate(required("password")),
			huh.NewInput().
				Title("Company name").
				Value(&in.CompanyName).
				Validate(required("company name")),
			huh.NewSelect[string]().
				Title("Business type").
				Options(businessTypes...).
				Value(&in.BusinessType).
				Validate(required("business type")),
		).Title("Create account"),
		huh.NewGroup(
			huh.NewInput().
				Title("Describe your business").
				Value(&in.OtherBusiness).
				Validate(required("business description")),
		).WithHideFunc(func() bool {
			return in.BusinessType != businessOther
		}),
	).WithShowHelp(false)
}
