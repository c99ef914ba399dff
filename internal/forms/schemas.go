package forms

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// EmailPattern accepts the addresses the reset and register forms allow.
const EmailPattern = `^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`

// TwoFactorPattern is a six digit verification code.
const TwoFactorPattern = `^[0-9]{6}$`

// MinPasswordLength for a new password.
const MinPasswordLength = 6

var (
	loginSchema = mustCompile(`{
		"type": "object",
		"properties": {
			"username": {"type": "string", "minLength": 1},
			"password": {"type": "string", "minLength": 1}
		},
		"required": ["username", "password"]
	}`)

	twoFactorSchema = mustCompile(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"code": {"type": "string", "minLength": 1, "pattern": %q}
		},
		"required": ["code"]
	}`, TwoFactorPattern))

	registerSchema = mustCompile(`{
		"type": "object",
		"properties": {
			"username": {"type": "string", "minLength": 1},
			"email":    {"type": "string", "minLength": 1},
			"password": {"type": "string", "minLength": 1},
			"role":     {"type": "string", "minLength": 1, "enum": ["user", "admin"]}
		},
		"required": ["username", "email", "password", "role"]
	}`)

	forgotPasswordSchema = mustCompile(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"email": {"type": "string", "minLength": 1, "pattern": %q}
		},
		"required": ["email"]
	}`, EmailPattern))

	resetPasswordSchema = mustCompile(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"password":        {"type": "string", "minLength": %d},
			"confirmPassword": {"type": "string", "minLength": 1}
		},
		"required": ["password", "confirmPassword"]
	}`, MinPasswordLength))
)

func mustCompile(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("compile form schema: %v", err))
	}
	return s
}
