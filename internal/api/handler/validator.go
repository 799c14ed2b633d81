package handler

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"mvalley/backend/internal/service"
)

// RegisterValidators 注册自定义 binding 标签，需在路由初始化前调用
//   - hhmm: 24 小时制 "HH:MM"
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("binding 校验引擎不是 validator/v10")
	}
	return v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return service.IsHHMM(fl.Field().String())
	})
}
