// Package validate 封装 go-playground/validator：使用 JSON 字段名与英文提示输出字段级错误。
// 与 Gin 共用 `binding` 标签，HTTP 绑定与 Service 层二次校验得到一致的错误信息。
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const requiredText = "{0} is required"

// Validator 带翻译器的校验器
type Validator struct {
	v     *validator.Validate
	trans ut.Translator
}

// New 创建独立的校验器实例
func New() *Validator {
	v := validator.New()
	v.SetTagName("binding")
	return &Validator{v: v, trans: setup(v)}
}

// FromGin 复用 Gin 默认绑定器内部的校验器，并注册相同的字段名与翻译
func FromGin() (*Validator, error) {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil, fmt.Errorf("gin 校验引擎类型异常: %T", binding.Validator.Engine())
	}
	return &Validator{v: v, trans: setup(v)}, nil
}

func setup(v *validator.Validate) ut.Translator {
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	// 错误中使用 JSON 字段名而非 Go 字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterTranslation("required", trans,
		func(t ut.Translator) error { return t.Add("required", requiredText, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T("required", fe.Field())
			return s
		},
	)
	return trans
}

// Struct 校验结构体
func (x *Validator) Struct(s interface{}) error {
	return x.v.Struct(s)
}

// Var 按规则校验单个值，失败时返回 字段 → 提示
func (x *Validator) Var(field string, value interface{}, tag string) map[string]string {
	err := x.v.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{field: err.Error()}
	}
	return map[string]string{field: field + verrs[0].Translate(x.trans)}
}

// Fields 将校验错误转换为 字段 → 提示；非校验错误返回 nil
func (x *Validator) Fields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(x.trans)
	}
	return fields
}

// FirstField 返回首个出错字段名，便于拼接错误信息
func (x *Validator) FirstField(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ""
	}
	return verrs[0].Field()
}

// HasTag 校验错误中是否存在指定规则（如 required）的失败项
func HasTag(err error, tag string) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Tag() == tag {
			return true
		}
	}
	return false
}
