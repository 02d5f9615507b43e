package ledger

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledger-core/internal/transactions"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/money"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

func validationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "alpha":
		return "must contain only letters"
	}
	return "is invalid"
}

func fieldError(field, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, field+" "+message).
		WithDetails(map[string]any{"field": field})
}

func checkAmount(field string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return fieldError(field, "must be non-zero")
	}
	return money.Validate(field, amount)
}

func (in *CreateInput) normalize() {
	in.Description = strings.TrimSpace(in.Description)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Tags = transactions.NormalizeTags(in.Tags)
}

func (in CreateInput) validate() error {
	if err := validate.Struct(in); err != nil {
		return validationError(err)
	}
	if in.Date.IsZero() {
		return fieldError("date", "is required")
	}
	if !in.Type.IsValid() {
		return fieldError("type", "is invalid")
	}
	return checkAmount("amount", in.Amount)
}

func validateParts(parts []SplitPart) error {
	if len(parts) < 2 {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "split needs at least 2 parts, got %d", len(parts)).
			WithDetails(map[string]any{"field": "parts"})
	}
	for i := range parts {
		parts[i].Description = strings.TrimSpace(parts[i].Description)
		parts[i].Tags = transactions.NormalizeTags(parts[i].Tags)
		if err := validate.Struct(parts[i]); err != nil {
			return validationError(err)
		}
		if err := checkAmount(fmt.Sprintf("parts[%d].amount", i), parts[i].Amount); err != nil {
			return err
		}
	}
	return nil
}

func validatePatch(patch *transactions.Patch) error {
	if patch.IsEmpty() {
		return pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
	}
	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		patch.Description = &d
		if d == "" {
			return fieldError("description", "is required")
		}
		if utf8.RuneCountInString(d) > 500 {
			return fieldError("description", "must be at most 500")
		}
	}
	if patch.Merchant != nil && utf8.RuneCountInString(strings.TrimSpace(*patch.Merchant)) > 100 {
		return fieldError("merchant", "must be at most 100")
	}
	if patch.Category != nil && utf8.RuneCountInString(strings.TrimSpace(*patch.Category)) > 100 {
		return fieldError("category", "must be at most 100")
	}
	if patch.Type != nil && !patch.Type.IsValid() {
		return fieldError("type", "is invalid")
	}
	if patch.Amount != nil {
		if err := checkAmount("amount", *patch.Amount); err != nil {
			return err
		}
	}
	if patch.Tags != nil {
		tags := transactions.NormalizeTags(*patch.Tags)
		patch.Tags = &tags
		for _, tag := range tags {
			if utf8.RuneCountInString(tag) > 64 {
				return fieldError("tags", "entries must be at most 64")
			}
		}
	}
	return nil
}
