package natsort

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaturalOrder(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"Less", testNaturalLess},
		{"Sort", testNaturalSort},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testNaturalLess(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"item2", "item10", true},
		{"item10", "item2", false},
		{"shard_0", "shard_1", true},
		{"shard_9", "shard_10", true},
		{"img_7", "img_7", false},
		{"a", "b", true},
		{"", "a", true},
		{"a", "", false},
		{"a1", "a1b", true},
		// digit segments order before text segments
		{"7", "a", true},
		// equal numeric value ties break on the raw digits
		{"07", "7", true},
		{"img07", "img7", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Less(c.a, c.b), "Less(%q, %q)", c.a, c.b)
	}
}

func testNaturalSort(t *testing.T) {
	ss := []string{"shard_10", "shard_2", "shard_0", "shard_1", "shard_21"}
	Sort(ss)
	assert.Equal(t, []string{"shard_0", "shard_1", "shard_2", "shard_10", "shard_21"}, ss)

	ids := []string{"img_100", "img_9", "img_10", "img_1"}
	Sort(ids)
	assert.Equal(t, []string{"img_1", "img_9", "img_10", "img_100"}, ids)
}
