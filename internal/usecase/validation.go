package usecase

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Правила полей профиля в синтаксисе validator.
var (
	usernameRule    = fmt.Sprintf("required,min=%d,max=%d,username", domain.UsernameMinLen, domain.UsernameMaxLen)
	passwordRule    = fmt.Sprintf("required,min=%d,password", passwordMinLen)
	ageRule         = fmt.Sprintf("gte=%d,lte=%d", domain.MinAge, domain.MaxAge)
	descriptionRule = fmt.Sprintf("max=%d,nomarkup", domain.DescriptionMaxLen)
)

const (
	passwordMinLen = 8
	// bcrypt не принимает пароли длиннее 72 байт.
	passwordMaxBytes = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9 _.\-]+$`)

// inputValidator переводит ошибки validator в domain.ValidationError.
type inputValidator struct {
	v *validator.Validate
}

func newInputValidator() *inputValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Ошибки регистрации возможны только при опечатке в имени тега.
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("nomarkup", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "<>")
	})
	return &inputValidator{v: v}
}

// strongPassword требует хотя бы одну цифру, одну заглавную букву и один спецсимвол.
func strongPassword(s string) bool {
	if len(s) > passwordMaxBytes {
		return false
	}
	var digit, upper, special bool
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsUpper(r):
			upper = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	return digit && upper && special
}

// Var проверяет одно значение и добавляет нарушения в ve.
func (iv *inputValidator) Var(ve *domain.ValidationError, field string, value any, rule string) {
	if err := iv.collect(iv.v.Var(value, rule), field); err != nil {
		ve.Problems = append(ve.Problems, err.Problems...)
	}
}

func (iv *inputValidator) collect(err error, field string) *domain.ValidationError {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewValidationError(field, err.Error())
	}
	ve := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		ve.Add(field, problemMessage(fe))
	}
	return ve
}

func problemMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "username":
		return "may contain only letters, digits, spaces, '_', '.' and '-'"
	case "password":
		return "must contain a digit, an uppercase letter and a special character and fit in 72 bytes"
	case "nomarkup":
		return "must not contain '<' or '>'"
	}
	return "is invalid (" + fe.Tag() + ")"
}
