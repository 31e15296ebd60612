/*
   Copyright 2016 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package main

import (
	"os"

	"github.com/openark/golib/log"
)

// main is the application's entry point
func main() {
	if err := newRootOptions().command().Execute(); err != nil {
		log.Errore(err)
		os.Exit(1)
	}
}
