package handlers

import (
	"net/http"

	"gensvc/internal/middleware"
)

var messages = map[string]map[string]string{
	"en": {
		"unauthorized":    "Sign in to continue",
		"invalid_payload": "The request body is not valid JSON",
		"not_found":       "Request not found",
		"in_progress":     "The request is still being processed",
		"internal":        "Something went wrong, please try again",
		"not_completed":   "Only completed requests can be downloaded",
		"quota_exceeded":  "Your generation quota is used up",
	},
	"id": {
		"unauthorized":    "Silakan masuk untuk melanjutkan",
		"invalid_payload": "Isi permintaan bukan JSON yang valid",
		"not_found":       "Permintaan tidak ditemukan",
		"in_progress":     "Permintaan masih diproses",
		"internal":        "Terjadi kesalahan, silakan coba lagi",
		"not_completed":   "Hanya permintaan yang selesai yang dapat diunduh",
		"quota_exceeded":  "Kuota pembuatan Anda sudah habis",
	},
}

// msg returns the message for key in the request locale, falling back to
// English.
func msg(locale, key string) string {
	if m, ok := messages[locale]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	return messages["en"][key]
}

func localeMsg(r *http.Request, key string) string {
	return msg(middleware.LocaleFromContext(r.Context()), key)
}
