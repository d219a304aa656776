/***
Copyright 2014 Cisco Systems Inc. All rights reserved.

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

package ofctrl

import "github.com/sirupsen/logrus"

// logger is the package-wide logger, following the same pattern the
// teacher codebase uses a package-level "log" import for: most call sites
// just want structured, leveled logging without threading a logger through
// every constructor. SetLogger lets the embedding daemon point this at its
// own configured logrus instance (with its syslog hook, formatter, etc.)
// instead of the library default.
var logger = logrus.StandardLogger()

// SetLogger overrides the logger used by this package. Pass nil to restore
// the standard logrus logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		logger = logrus.StandardLogger()
		return
	}
	logger = l
}
