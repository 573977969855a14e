package common

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestStringSet(t *testing.T) {
	ss := StringSet{}
	ss.Add("2")
	ss.Add("1")
	assert.T(t, ss.Contains("1"), "should contain")
	assert.T(t, ss.Contains("2"), "should contain")
	assert.Equal(t, []string{"1", "2"}, ss.ToList())
	ss.Remove("2")
	assert.T(t, !ss.Contains("2"), "should not contain")
}

func TestIDStrings(t *testing.T) {
	assert.Equal(t, "Dog<42>", DogID(42).String())
	assert.Equal(t, "Conn<7>", ConnectionID(7).String())
}

func TestParseHash(t *testing.T) {
	var h Hash
	h[0], h[31] = 0xab, 0x01
	parsed, err := ParseHash(h.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abcd")
	assert.NotEqual(t, nil, err)
	_, err = ParseHash("zz")
	assert.NotEqual(t, nil, err)
}
