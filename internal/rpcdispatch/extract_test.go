package rpcdispatch

import "testing"

func TestParseStringRequiresObjectParams(t *testing.T) {
	_, err := parseString("not an object", "path")
	if err == nil || err.Error() != "missing `path`" {
		t.Errorf("err = %v, want missing `path`", err)
	}
}

func TestParseStringMissingOrWrongTypeYieldsInvalidWording(t *testing.T) {
	_, err := parseString(map[string]any{}, "path")
	if err == nil || err.Error() != "missing or invalid `path`" {
		t.Errorf("err = %v, want missing or invalid `path`", err)
	}

	_, err = parseString(map[string]any{"path": 123.0}, "path")
	if err == nil || err.Error() != "missing or invalid `path`" {
		t.Errorf("err = %v, want missing or invalid `path`", err)
	}
}

func TestParseStringSuccess(t *testing.T) {
	got, err := parseString(map[string]any{"path": "/tmp"}, "path")
	if err != nil || got != "/tmp" {
		t.Errorf("got=%q err=%v", got, err)
	}
}

func TestParseOptionalStringNeverErrors(t *testing.T) {
	if got := parseOptionalString("nope", "x"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := parseOptionalString(map[string]any{"x": 1.0}, "x"); got != nil {
		t.Errorf("expected nil for wrong type, got %v", got)
	}
	if got := parseOptionalString(map[string]any{"x": "y"}, "x"); got == nil || *got != "y" {
		t.Errorf("expected y, got %v", got)
	}
}

func TestParseOptionalU32RangeAndIntegrality(t *testing.T) {
	if got := parseOptionalU32(map[string]any{"n": 42.0}, "n"); got == nil || *got != 42 {
		t.Errorf("got %v", got)
	}
	if got := parseOptionalU32(map[string]any{"n": 1.5}, "n"); got != nil {
		t.Errorf("non-integral should be nil, got %v", got)
	}
	if got := parseOptionalU32(map[string]any{"n": -1.0}, "n"); got != nil {
		t.Errorf("negative should be nil, got %v", got)
	}
}

func TestParseOptionalStringArrayFiltersNonStrings(t *testing.T) {
	got := parseOptionalStringArray(map[string]any{"xs": []any{"a", 1.0, "b", nil}}, "xs")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}

func TestParseStringArrayMissingIsMissingNotInvalid(t *testing.T) {
	_, err := parseStringArray(map[string]any{}, "command")
	if err == nil || err.Error() != "missing `command`" {
		t.Errorf("err = %v, want missing `command`", err)
	}
}

func TestParseAuthTokenAcceptsBareStringOrObject(t *testing.T) {
	if got := parseAuthToken("tok"); got != "tok" {
		t.Errorf("got %q", got)
	}
	if got := parseAuthToken(map[string]any{"token": "tok2"}); got != "tok2" {
		t.Errorf("got %q", got)
	}
	if got := parseAuthToken(nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
