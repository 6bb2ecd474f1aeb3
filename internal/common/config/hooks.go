package config

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/G-Research/chunkpool/internal/common/compress"
)

// CustomHooks returns the options passed to viper.Unmarshal. Viper keeps only the last DecodeHook option, so all hooks
// are composed into one.
func CustomHooks(extra ...mapstructure.DecodeHookFunc) []viper.DecoderConfigOption {
	return []viper.DecoderConfigOption{
		viper.DecodeHook(DecodeHook(extra...)),
	}
}

// DecodeHook composes the hooks used for every config struct in this repo with any package specific ones.
func DecodeHook(extra ...mapstructure.DecodeHookFunc) mapstructure.DecodeHookFunc {
	hooks := []mapstructure.DecodeHookFunc{
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		QuantityDecodeHook(),
		CompressionCodecHookFunc(),
	}
	return mapstructure.ComposeDecodeHookFunc(append(hooks, extra...)...)
}

func CompressionCodecHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(compress.None) {
			return data, nil
		}
		return compress.ParseCodec(data.(string))
	}
}

func QuantityDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(resource.Quantity{}) {
			return data, nil
		}
		return resource.ParseQuantity(fmt.Sprintf("%v", data))
	}
}
