// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hopscotch

import (
	"os"

	"github.com/go-kratos/kratos/v2/log"
)

// logger is package-scoped rather than threaded through every Table[V],
// since resize is an infrequent, process-wide operational event (topic
// descriptors build their member-ID table once at registration time) and
// not part of any hot lookup path. Defaults to a stdout logger filtered to
// error level, matching a package with no opinion on the caller's log
// sink until told otherwise.
var logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout), log.FilterLevel(log.LevelError)))

// SetLogger replaces the package's logger, for callers that want resize
// events routed somewhere other than stdout.
func SetLogger(l log.Logger) {
	logger = log.NewHelper(l)
}
