package validation

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validator предоставляет общие функции валидации
type Validator struct{}

// NewValidator создает новый Validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRequired проверяет, что значение не пустое после обрезки пробелов
func (v *Validator) ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength проверяет длину строки в символах
func (v *Validator) ValidateStringLength(value, fieldName string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters, got: %d", fieldName, min, length)
	}
	if length > max {
		return fmt.Errorf("%s must not exceed %d characters, got: %d", fieldName, max, length)
	}
	return nil
}

// ValidateNoWhitespace проверяет отсутствие пробельных символов
func (v *Validator) ValidateNoWhitespace(value, fieldName string) error {
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%s must not contain whitespace", fieldName)
	}
	return nil
}

// ValidateURL проверяет корректность URL
func (v *Validator) ValidateURL(target string, allowedSchemes []string) error {
	if target == "" {
		return fmt.Errorf("url is required")
	}
	if strings.ContainsAny(target, " \t\n\r") {
		return fmt.Errorf("URL contains invalid whitespace characters")
	}

	parsedURL, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if len(allowedSchemes) > 0 {
		schemeValid := false
		for _, scheme := range allowedSchemes {
			if parsedURL.Scheme == scheme {
				schemeValid = true
				break
			}
		}
		if !schemeValid {
			return fmt.Errorf("URL must use one of allowed schemes %v, got: %s", allowedSchemes, parsedURL.Scheme)
		}
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a valid host")
	}

	return nil
}

// ValidateEnum проверяет значение на соответствие enum
func (v *Validator) ValidateEnum(value string, allowedValues []string, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	for _, allowed := range allowedValues {
		if value == allowed {
			return nil
		}
	}

	return fmt.Errorf("invalid %s: %s, allowed values: %v", fieldName, value, allowedValues)
}

// ValidateBase64Length проверяет, что строка в стандартном base64 декодируется ровно в size байт
func (v *Validator) ValidateBase64Length(value, fieldName string, size int) error {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s must be base64 encoded", fieldName)
	}
	if len(raw) != size {
		return fmt.Errorf("%s must decode to %d bytes, got: %d", fieldName, size, len(raw))
	}
	return nil
}
