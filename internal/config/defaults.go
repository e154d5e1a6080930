package config

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors", true)

	v.SetDefault("model.path", "landcovernet_resnet18.onnx")
	v.SetDefault("model.metadata_path", "model_metadata.json")
	v.SetDefault("model.label_map_path", "label_map.json")
	v.SetDefault("model.shared_library_path", "")
	v.SetDefault("model.intra_op_threads", 0)

	v.SetDefault("geotiff.rgb_bands", []int{0, 1, 2})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
