package flagext

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type ConfigFiles []string

// String implements flag.Value
// Format: file1.yaml,file2.yaml
func (cfgFiles *ConfigFiles) String() string {
	return strings.Join(*cfgFiles, ",")
}

// Set implements flag.Value
func (cfgFiles *ConfigFiles) Set(value string) error {
	*cfgFiles = append(*cfgFiles, value)
	return nil
}

// Load decodes the files in order into dst. Later files override the fields
// they set; unknown fields are an error.
func (cfgFiles ConfigFiles) Load(dst interface{}) error {
	for _, file := range cfgFiles {
		buf, err := os.ReadFile(file)
		if err != nil {
			return errors.Wrap(err, "error reading config file")
		}
		if err := yaml.UnmarshalStrict(buf, dst); err != nil {
			return errors.Wrapf(err, "error parsing config file %s", file)
		}
	}
	return nil
}
