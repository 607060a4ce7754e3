// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jsonrepair extracts a JSON object from free-form model text and
// repairs common syntax defects before decoding.
//
// The repair layer is best effort, may fail, and is deliberately layered in
// front of a strict parser: it handles the defects models actually produce
// (trailing commas, unquoted keys, missing commas, unbalanced braces), not
// arbitrary malformed JSON. Callers must treat a FormatError as recoverable.
package jsonrepair
