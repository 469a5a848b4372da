package api

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"equipment-custody-backend/internal/model"
)

var registerOnce sync.Once

// RegisterValidations installs the custom binding rules on gin's validator
// and reports fields by their JSON names.
func RegisterValidations() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		err = v.RegisterValidation("equipreason", isEquipmentReason)
	})
	return err
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func isEquipmentReason(fl validator.FieldLevel) bool {
	return model.Reason(fl.Field().String()).Valid()
}
