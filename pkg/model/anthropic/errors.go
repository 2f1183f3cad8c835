// Copyright 2025 Kadir Pekel
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

package anthropic

import (
	"fmt"
	"io"
	"net/http"
)

func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("Invalid API key")
	case http.StatusTooManyRequests:
		return fmt.Errorf("Rate limit exceeded")
	case http.StatusBadRequest:
		return fmt.Errorf("Invalid request: %s", string(body))
	default:
		return fmt.Errorf("provider error (%d): %s", resp.StatusCode, string(body))
	}
}

func classifyError(err error, resp *http.Response) error {
	if resp != nil {
		return classifyStatus(resp)
	}
	return fmt.Errorf("provider request failed: %w", err)
}
