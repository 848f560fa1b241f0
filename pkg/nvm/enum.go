// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nvm

import (
	"encoding/json"
	"fmt"
	"strings"
)

type enum interface {
	~int
}

func enumString[T enum](names map[T]string, v T, kind string) string {
	if str, ok := names[v]; ok {
		return str
	}
	return fmt.Sprintf("%%!(nvm:Bad-%s %d)", kind, int(v))
}

func marshalEnum[T enum](names map[T]string, v T, kind string) ([]byte, error) {
	if str, ok := names[v]; ok {
		return json.Marshal(str)
	}
	return nil, fmt.Errorf("%w: %s %d", ErrInvalidType, kind, int(v))
}

// unmarshalEnum accepts either the numeric value or the (case-insensitive) name.
func unmarshalEnum[T enum](names map[T]string, data []byte, v *T, kind string) error {
	i := 0
	if err := json.Unmarshal(data, &i); err == nil {
		if _, ok := names[T(i)]; ok {
			*v = T(i)
			return nil
		}
		return fmt.Errorf("%w: %s %d", ErrInvalidType, kind, i)
	}

	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidType, kind, err)
	}
	for val, name := range names {
		if strings.EqualFold(name, str) {
			*v = val
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q", ErrInvalidType, kind, str)
}
