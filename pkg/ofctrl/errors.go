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

// This file collects the rate limiters backing this core's error-logging
// policy. Nothing here is ever fatal: every kind of failure this core can
// observe (a malformed inbound frame, a switch rejecting a mod, a producer
// handing over an unparsable group spec) is logged and then either
// dropped or retried on the next cycle. There is deliberately no error
// return path out of run()/put() for any of this — see commonReceive in
// negotiator.go and the classification this groups.

import "golang.org/x/time/rate"

var (
	decodeWarnLimiter    = rate.NewLimiter(5, 5)
	groupParseErrLimiter = rate.NewLimiter(5, 5)
)

// logDecodeWarn reports a malformed inbound frame. The frame is always
// dropped; this only controls how loudly that gets logged.
func logDecodeWarn(err error) {
	if decodeWarnLimiter.Allow() {
		logger.WithError(err).Warn("dropping malformed inbound OpenFlow frame")
	}
}

// logGroupParseError reports a producer-supplied group spec that failed
// to parse. The group mod is skipped; Reconciler.Put still moves the
// group into the existing set in its last phase, so later puts do not
// retry the add for that id.
func logGroupParseError(groupID uint32, err error) {
	if groupParseErrLimiter.Allow() {
		logger.WithError(err).WithField("group_id", groupID).Error("failed to parse desired group spec, skipping")
	}
}
