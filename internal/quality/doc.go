// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quality implements the two-phase scoring engine. Phase 1 is a
// synchronous lexical heuristic that always runs on turn finalize. Phase 2
// is a debounced, cancellable, single-in-flight model-graded pass whose
// result supersedes the heuristic when it lands. A grading failure of any
// kind leaves the heuristic score in place; it is never surfaced to the
// end user.
package quality
