package chzzkapi

import (
	"fmt"
	"regexp"
	"strings"
)

var videoLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://chzzk\.naver\.com/video/(\d+)(?:\?.*)?$`),
	regexp.MustCompile(`^https?://m\.chzzk\.naver\.com/video/(\d+)(?:\?.*)?$`),
}

var bareNumber = regexp.MustCompile(`^\d+$`)

// ExtractVideoNo pulls the numeric video id from a chzzk replay link or accepts
// a bare video number.
func ExtractVideoNo(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", fmt.Errorf("empty video link")
	}
	if bareNumber.MatchString(link) {
		return link, nil
	}
	for _, re := range videoLinkPatterns {
		if m := re.FindStringSubmatch(link); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("not a chzzk video link: %s", link)
}
