package forms

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/flightbook/internal/models"
)

// Field messages keyed by field, then by schema error type. "required"
// covers both a missing and an empty value.
var messages = map[string]map[string]string{
	"username": {"required": "Username is required"},
	"password": {
		"required":   "Password is required",
		"string_gte": fmt.Sprintf("Password must be at least %d characters", MinPasswordLength),
	},
	"code": {
		"required": "Verification code is required",
		"pattern":  "Code must be 6 digits",
	},
	"email": {
		"required": "Email is required",
		"pattern":  "Invalid email address",
	},
	"role": {
		"required": "Role is required",
		"enum":     "Role must be user or admin",
	},
	"confirmPassword": {
		"required": "Please confirm your password",
		"mismatch": "The passwords do not match",
	},
}

// Normalize trims surrounding space and puts text in NFC so visually equal
// input compares equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Login validates sign-in input.
func Login(creds models.Credentials) (models.Credentials, error) {
	creds.Username = Normalize(creds.Username)
	err := validate(loginSchema, map[string]interface{}{
		"username": creds.Username,
		"password": creds.Password,
	}, "password")
	return creds, err
}

// TwoFactor validates a verification code.
func TwoFactor(code string) (models.TwoFactorRequest, error) {
	code = strings.TrimSpace(code)
	err := validate(twoFactorSchema, map[string]interface{}{"code": code})
	return models.TwoFactorRequest{Code: code}, err
}

// Register validates the registration form. role is the single role
// picked on the form.
func Register(username, email, password, role string) (models.SignupRequest, error) {
	req := models.SignupRequest{
		Username: Normalize(username),
		Email:    Normalize(email),
		Password: password,
	}
	role = strings.ToLower(strings.TrimSpace(role))

	err := validate(registerSchema, map[string]interface{}{
		"username": req.Username,
		"email":    req.Email,
		"password": req.Password,
		"role":     role,
	}, "password")
	if role != "" {
		req.Role = []string{role}
	}
	return req, err
}

// ForgotPassword validates the reset request form.
func ForgotPassword(email string) (string, error) {
	email = Normalize(email)
	return email, validate(forgotPasswordSchema, map[string]interface{}{"email": email})
}

// ResetPassword validates a new password and its confirmation.
func ResetPassword(password, confirm string) error {
	err := validate(resetPasswordSchema, map[string]interface{}{
		"password":        password,
		"confirmPassword": confirm,
	}, "password")

	fields, ok := err.(models.FieldErrors)
	if err != nil && !ok {
		return err
	}
	if confirm != "" && password != confirm {
		if fields == nil {
			fields = models.FieldErrors{}
		}
		fields["confirmPassword"] = messages["confirmPassword"]["mismatch"]
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ResetLink is the token and email carried by a password reset link.
type ResetLink struct {
	Token string
	Email string
}

// ParseResetLink reads token and email from a reset link, a bare query
// string, or parsed query values. Missing either yields
// models.ErrInvalidResetLink.
func ParseResetLink(raw string) (ResetLink, error) {
	query := raw
	if i := strings.Index(raw, "?"); i >= 0 {
		query = raw[i+1:]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return ResetLink{}, models.ErrInvalidResetLink
	}
	return ResetLinkFromQuery(values)
}

// ResetLinkFromQuery is ParseResetLink for already-parsed values.
func ResetLinkFromQuery(values url.Values) (ResetLink, error) {
	link := ResetLink{
		Token: strings.TrimSpace(values.Get("token")),
		Email: Normalize(values.Get("email")),
	}
	if link.Token == "" || link.Email == "" {
		return ResetLink{}, models.ErrInvalidResetLink
	}
	return link, nil
}

// Request builds the confirm call from the link and the new password.
func (l ResetLink) Request(newPassword string) models.PasswordResetRequest {
	return models.PasswordResetRequest{
		Email:       l.Email,
		Token:       l.Token,
		NewPassword: newPassword,
	}
}

// validate runs schema over doc and turns failures into field messages.
// Fields listed in raw are checked for emptiness without trimming.
func validate(schema *gojsonschema.Schema, doc map[string]interface{}, raw ...string) error {
	for k, v := range doc {
		if s, ok := v.(string); ok && !slices.Contains(raw, k) {
			doc[k] = strings.TrimSpace(s)
		}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate form: %w", err)
	}
	if result.Valid() {
		return nil
	}

	fields := models.FieldErrors{}
	for _, verr := range result.Errors() {
		field := verr.Field()
		if field == "(root)" {
			if p, ok := verr.Details()["property"].(string); ok {
				field = p
			}
		}
		if _, seen := fields[field]; seen {
			continue
		}
		fields[field] = message(field, verr, doc[field])
	}
	return fields
}

func message(field string, verr gojsonschema.ResultError, value interface{}) string {
	kind := verr.Type()
	if s, ok := value.(string); ok && utf8.RuneCountInString(s) == 0 {
		kind = "required"
	}
	if kind == "string_gte" && messages[field][kind] == "" {
		kind = "required"
	}
	if msg, ok := messages[field][kind]; ok {
		return msg
	}
	return verr.Description()
}
