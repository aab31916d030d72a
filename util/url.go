package util

import (
	"net/url"
	"strconv"
)

// GetQueryParam returns the first value of key in the URL query, or defaultValue when it is absent.
func GetQueryParam(u *url.URL, key string, defaultValue string) string {
	if value := u.Query().Get(key); value != "" {
		return value
	}

	return defaultValue
}

// GetQueryParamInt is GetQueryParam for integer values; unparsable values yield defaultValue.
func GetQueryParamInt(u *url.URL, key string, defaultValue int) int {
	value, err := strconv.Atoi(u.Query().Get(key))
	if err != nil {
		return defaultValue
	}

	return value
}
