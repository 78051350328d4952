package main

import (
	"github.com/spf13/pflag"
)

// bind ties a flag to a config key; an explicitly set flag beats file and
// env.
func (c *cli) bind(f *pflag.Flag, key string) {
	if err := c.v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
