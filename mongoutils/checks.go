// Copyright (c) 2018 - The Event Horizon authors.
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

package mongoutils

import (
	"errors"
	"strings"
)

var (
	ErrMissingCollectionName       = errors.New("missing collection name")
	ErrInvalidCharInCollectionName = errors.New("invalid char in collection name (space)")
)

// CheckCollectionName checks if a collection name is valid for mongodb.
// We only check on spaces because they are hard to see by humans.
func CheckCollectionName(name string) error {
	if name == "" {
		return ErrMissingCollectionName
	} else if strings.ContainsAny(name, " ") {
		return ErrInvalidCharInCollectionName
	}
	return nil
}
