// Package validator 基于 go-playground/validator 提供请求结构体校验，
// 并把校验错误翻译成可读的字段消息。
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// Supported languages.
const (
	LangEN = "en"
	LangZH = "zh"
)

// TagNotBlank rejects strings that are empty after trimming whitespace.
const TagNotBlank = "notblank"

// FieldError is one failed rule, keyed by the json field name.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationErrors collects every failed rule of a single struct.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fe.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validator wraps validator.Validate with translators.
type Validator struct {
	validate *validator.Validate
	uni      *ut.UniversalTranslator
}

var (
	global     *Validator
	globalOnce sync.Once
)

// Global returns the process-wide validator instance.
func Global() *Validator {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New creates a Validator with the custom rules and en/zh translations registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation(TagNotBlank, func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return true
		}
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale, zh.New())

	if trans, ok := uni.GetTranslator(LangEN); ok {
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		registerTranslation(v, trans, TagNotBlank, "{0} must not be blank")
	}
	if trans, ok := uni.GetTranslator(LangZH); ok {
		_ = zh_translations.RegisterDefaultTranslations(v, trans)
		registerTranslation(v, trans, TagNotBlank, "{0}不能为空白")
	}

	return &Validator{validate: v, uni: uni}
}

func registerTranslation(v *validator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

// Engine exposes the underlying validator.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

// Struct validates s and returns ValidationErrors translated to English.
func (v *Validator) Struct(s any) error {
	return v.StructLang(s, LangEN)
}

// StructLang validates s and returns ValidationErrors translated to lang.
func (v *Validator) StructLang(s any, lang string) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	trans, _ := v.uni.GetTranslator(lang)
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Error()
		if trans != nil {
			msg = fe.Translate(trans)
		}
		out = append(out, FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: msg})
	}
	return out
}
