package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Client type classification
// =============================================================================

func TestNormalizeClientType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"pc", "pc"},
		{"  MacOS ", "macos"},
		{"ANDROID", "android"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeClientType(tt.in), "input %q", tt.in)
	}
}

func TestClientTypeClassification(t *testing.T) {
	tests := []struct {
		in  string
		app bool
		pc  bool
	}{
		{"app", true, false},
		{"android", true, false},
		{"ios", true, false},
		{"pc", false, true},
		{"windows", false, true},
		{"macos", false, true},
		{"linux", false, true},
		{"cli", false, true},
		{"web", false, true},
		{"IOS", true, false},
		{" Windows ", false, true},
		{"toaster", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.app, IsAppClientType(tt.in), "IsAppClientType(%q)", tt.in)
		assert.Equal(t, tt.pc, IsPCClientType(tt.in), "IsPCClientType(%q)", tt.in)
	}
}

func TestNormalizeActivityType(t *testing.T) {
	assert.Equal(t, "clipboard", NormalizeActivityType("clipboard"))
	assert.Equal(t, "transfer_state", NormalizeActivityType("transfer_state"))
	assert.Equal(t, DefaultActivityType, NormalizeActivityType("custom_event"))
	assert.Equal(t, DefaultActivityType, NormalizeActivityType(""))
}

// =============================================================================
// Loose payload access
// =============================================================================

func TestPayloadStringAccessors(t *testing.T) {
	p := Payload{"name": "x.bin", "blank": "   ", "num": float64(3)}

	assert.Equal(t, "x.bin", p.Str("name"))
	assert.Equal(t, "", p.Str("num"), "non-strings read as empty")
	assert.Equal(t, "", p.Str("missing"))

	assert.Equal(t, "x.bin", p.StrOr("name", "fallback"))
	assert.Equal(t, "fallback", p.StrOr("blank", "fallback"))
	assert.Equal(t, "fallback", p.StrOr("missing", "fallback"))
}

func TestPayloadInt64(t *testing.T) {
	p := Payload{
		"json_number": float64(1500),
		"go_int":      42,
		"go_int64":    int64(7),
		"string":      " 2000 ",
		"garbage":     "soon",
		"object":      map[string]interface{}{},
	}

	assert.Equal(t, int64(1500), p.Int64("json_number", -1))
	assert.Equal(t, int64(42), p.Int64("go_int", -1))
	assert.Equal(t, int64(7), p.Int64("go_int64", -1))
	assert.Equal(t, int64(2000), p.Int64("string", -1))
	assert.Equal(t, int64(-1), p.Int64("garbage", -1))
	assert.Equal(t, int64(-1), p.Int64("object", -1))
	assert.Equal(t, int64(-1), p.Int64("missing", -1))
}

func TestPayloadFloat64Ptr(t *testing.T) {
	p := Payload{"latency_ms": float64(42.5), "reason": "timeout"}

	latency := p.Float64Ptr("latency_ms")
	require.NotNil(t, latency)
	assert.Equal(t, 42.5, *latency)

	assert.Nil(t, p.Float64Ptr("reason"))
	assert.Nil(t, p.Float64Ptr("missing"))
}

func TestPayloadMapAndHas(t *testing.T) {
	p := Payload{"data": map[string]interface{}{"file_id": "f1"}, "empty": nil}

	require.NotNil(t, p.Map("data"))
	assert.Equal(t, "f1", p.Map("data")["file_id"])
	assert.Nil(t, p.Map("missing"))

	assert.True(t, p.Has("empty"), "a present null still counts as present")
	assert.False(t, p.Has("missing"))
}

// =============================================================================
// Envelope handling
// =============================================================================

func TestParseSignalPayloadUnwrapsNestedData(t *testing.T) {
	nested := Payload{
		"room": "R",
		"data": map[string]interface{}{"file_id": "f1", "filename": "x.bin"},
	}
	parsed := ParseSignalPayload(nested)
	assert.Equal(t, "f1", parsed.Str("file_id"))
	assert.False(t, parsed.Has("room"), "outer keys stay outside")

	flat := Payload{"room": "R", "file_id": "f2"}
	assert.Equal(t, "f2", ParseSignalPayload(flat).Str("file_id"))

	assert.NotNil(t, ParseSignalPayload(nil))
}

func TestFlattenSignalPayloadHoistsContextKeys(t *testing.T) {
	data := Payload{
		"room":        "R",
		"transfer_id": "tr_outer",
		"data": map[string]interface{}{
			"file_id":     "f1",
			"transfer_id": "tr_inner",
		},
	}

	flat := flattenSignalPayload(data)

	assert.Equal(t, "R", flat.Str("room"))
	assert.Equal(t, "f1", flat.Str("file_id"))
	assert.Equal(t, "tr_inner", flat.Str("transfer_id"), "inner values win over the envelope")

	flat["room"] = "mutated"
	assert.Equal(t, "R", data.Str("room"), "flattening copies, never aliases")
}

// =============================================================================
// Activity previews
// =============================================================================

func TestClipboardPreview(t *testing.T) {
	assert.Equal(t, "Encrypted Data", clipboardPreview(""))
	assert.Equal(t, "short text...", clipboardPreview("short text"))

	long := "0123456789012345678901234567890123456789"
	assert.Equal(t, "012345678901234567890123456789...", clipboardPreview(long))

	wide := "日本語のクリップボードテキストをとても長くしてみたらどうなるか確認する"
	preview := clipboardPreview(wide)
	assert.Equal(t, string([]rune(wide)[:30])+"...", preview)
}
