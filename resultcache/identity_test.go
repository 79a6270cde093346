package resultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type point struct{ X, Y int }

func TestIdentity_deterministic(t *testing.T) {
	args := []any{1, int64(2), uint8(3), 4.5, `five`, []byte(`six`), true, nil, point{7, 8}, time.Second}
	assert.Equal(t, Identity(`r`, args...), Identity(`r`, args...))
}

func TestIdentity_distinct(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		a, b Key
	}{
		{`routine`, Identity(`a`, 1), Identity(`b`, 1)},
		{`int vs uint`, Identity(`r`, 1), Identity(`r`, uint(1))},
		{`int vs string`, Identity(`r`, 1), Identity(`r`, `1`)},
		{`string boundaries`, Identity(`r`, `ab`, `c`), Identity(`r`, `a`, `bc`)},
		{`routine vs arg boundary`, Identity(`ab`), Identity(`a`, `b`)},
		{`arg order`, Identity(`r`, 1, 2), Identity(`r`, 2, 1)},
		{`arity`, Identity(`r`), Identity(`r`, nil)},
		{`bytes vs string`, Identity(`r`, []byte(`x`)), Identity(`r`, `x`)},
		{`bool`, Identity(`r`, true), Identity(`r`, false)},
		{`struct`, Identity(`r`, point{1, 2}), Identity(`r`, point{2, 1})},
		{`nested key`, Identity(`r`, Identity(`q`, 1)), Identity(`r`, Identity(`q`, 2))},
		{`stringer`, Identity(`r`, time.Second), Identity(`r`, time.Minute)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotEqual(t, tc.a, tc.b)
		})
	}
}

func TestIdentity_integerWidthsAgree(t *testing.T) {
	// same value, same signedness, is the same argument
	assert.Equal(t, Identity(`r`, 5), Identity(`r`, int32(5)))
	assert.Equal(t, Identity(`r`, uint(5)), Identity(`r`, uint64(5)))
	assert.Equal(t, Identity(`r`, float32(0.5)), Identity(`r`, 0.5))
}
