/*
Copyright 2025 The vacthermo Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a Store driver.
type Config struct {
	Driver Driver `json:"driver" yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=fs s3 memory"`
	// Root is the directory for the fs driver.
	Root string   `json:"root,omitempty" yaml:"root,omitempty" mapstructure:"root"`
	S3   S3Config `json:"s3,omitempty" yaml:"s3,omitempty" mapstructure:"s3"`
}

// Open returns the Store selected by cfg.Driver. The fs driver is the default.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}
