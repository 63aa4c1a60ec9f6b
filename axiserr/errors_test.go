/*
   Copyright 2025 The DIRPX Authors.

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

package axiserr_test

import (
	"errors"
	"testing"

	"dirpx.dev/timeaxis/axiserr"
)

func TestErrorMessage(t *testing.T) {
	err := axiserr.New(axiserr.SlotInPast, "target=3 current=5")
	if got, want := err.Error(), "SlotInPast: target=3 current=5"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	bare := axiserr.New(axiserr.NotFound, "")
	if got, want := bare.Error(), "NotFound"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorsIs(t *testing.T) {
	err := axiserr.New(axiserr.Terminated, "")
	if !errors.Is(err, axiserr.New(axiserr.Terminated, "different detail")) {
		t.Fatalf("errors.Is should match on Code regardless of Detail")
	}
	if errors.Is(err, axiserr.New(axiserr.NotFound, "")) {
		t.Fatalf("errors.Is should not match a different Code")
	}
}

func TestAs(t *testing.T) {
	code, ok := axiserr.As(axiserr.New(axiserr.PolicyLocked, ""))
	if !ok || code != axiserr.PolicyLocked {
		t.Fatalf("As() = (%v, %v), want (PolicyLocked, true)", code, ok)
	}

	if _, ok := axiserr.As(nil); ok {
		t.Fatalf("As(nil) should report false")
	}

	if _, ok := axiserr.As(errors.New("plain")); ok {
		t.Fatalf("As(plain error) should report false")
	}
}

func TestUnknownCodeString(t *testing.T) {
	var c axiserr.Code = 999
	if got := c.String(); got != "Code(unknown)" {
		t.Fatalf("String() = %q", got)
	}
}
