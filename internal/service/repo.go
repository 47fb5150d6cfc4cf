package service

import (
	"strings"
	"time"
)

func ownerOf(full string) string {
	owner, _, _ := strings.Cut(full, "/")
	return owner
}

func nameOf(full string) string {
	_, name, _ := strings.Cut(full, "/")
	return name
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
