// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command callreach reports every function of a C translation unit that
// reaches a target function through direct or transitive calls.
//
// Usage:
//
//	callreach analyze                       # sp_alloc in sp.h, chains mode
//	callreach analyze lib.h --target lib_free --mode tree
//	callreach analyze sp.h -D SP_DEBUG -I include --mode json
//	callreach watch sp.h --mode tree
//	callreach serve --addr :8090 --root ./src
//	callreach snapshots list
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
