// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "regexp"

// redactionPattern pairs a compiled regex with a labeled replacement so a
// log reader knows what was removed without seeing the secret value.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns lists the secret classes that can leak through upstream
// error bodies: the completion API key, bearer tokens, and the database
// gateway's apikey header or query parameter.
//
// Order matters: more specific prefixes must come first.
var redactionPatterns = []redactionPattern{
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:completion_key]",
	},
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	{
		Pattern:     regexp.MustCompile(`apikey[=:]\s*[A-Za-z0-9._-]{10,}`),
		Replacement: "apikey=[REDACTED]",
	},
}

// maxSafeLogLen caps upstream bodies quoted into errors and logs.
const maxSafeLogLen = 2000

// SafeLogString redacts known secret formats and truncates the result.
//
// Description:
//
//	Applied to every upstream response body before it is embedded in an
//	error string. Upstream errors sometimes echo request headers back,
//	which would otherwise put credentials into logs and user-visible
//	error messages.
func SafeLogString(s string) string {
	for _, rp := range redactionPatterns {
		s = rp.Pattern.ReplaceAllString(s, rp.Replacement)
	}
	if len(s) > maxSafeLogLen {
		s = s[:maxSafeLogLen] + "...[truncated]"
	}
	return s
}
