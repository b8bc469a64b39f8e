// Package transcribe turns trimmed excerpt media into timed speech segments.
// The default implementation shells out to a whisper.cpp style CLI; callers
// that do not need speech pass a nil Transcriber and get an empty track.
package transcribe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Segment is one span of recognized speech within the media file, with
// timestamps relative to the start of the file.
type Segment struct {
	Start   time.Duration
	End     time.Duration
	Speaker string
	Text    string
}

// Transcriber produces speech segments for a media file.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) ([]Segment, error)
}

// ExtractAudio demuxes mediaPath into a 16 kHz mono WAV at audioPath, the
// input format whisper expects.
func ExtractAudio(ctx context.Context, ffmpegBin, mediaPath, audioPath string) error {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegBin,
		"-y",
		"-i", mediaPath,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		audioPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("extract audio: %w: %s", err, lastLines(string(out), 3))
	}
	return nil
}

// WhisperCLI runs a whisper binary over the extracted audio and parses its
// stdout timestamps.
type WhisperCLI struct {
	Bin       string
	ModelPath string
	FFmpegBin string
	// Speaker labels every segment; whisper itself does not diarize.
	Speaker string
}

func (w *WhisperCLI) Transcribe(ctx context.Context, mediaPath string) ([]Segment, error) {
	audio := mediaPath + ".wav"
	if err := ExtractAudio(ctx, w.FFmpegBin, mediaPath, audio); err != nil {
		return nil, err
	}
	defer os.Remove(audio)

	bin := w.Bin
	if bin == "" {
		bin = "whisper"
	}
	args := []string{"-f", audio}
	if w.ModelPath != "" {
		args = append(args, "-m", w.ModelPath)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	return ParseWhisperOutput(string(out), w.Speaker)
}

// whisper.cpp line format: [00:00:01.000 --> 00:00:04.520]  some words
var whisperLine = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2}\.\d{3}) --> (\d{2}:\d{2}:\d{2}\.\d{3})\]\s*(.*)$`)

// ParseWhisperOutput parses timestamped transcript lines. Lines that do not
// carry a timestamp pair (progress chatter, blank lines) are skipped.
func ParseWhisperOutput(out, speaker string) ([]Segment, error) {
	var segs []Segment
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := whisperLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		start, err := parseStamp(m[1])
		if err != nil {
			return nil, fmt.Errorf("bad start timestamp %q: %w", m[1], err)
		}
		end, err := parseStamp(m[2])
		if err != nil {
			return nil, fmt.Errorf("bad end timestamp %q: %w", m[2], err)
		}
		text := strings.TrimSpace(m[3])
		if text == "" {
			continue
		}
		segs = append(segs, Segment{Start: start, End: end, Speaker: speaker, Text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return segs, nil
}

func parseStamp(s string) (time.Duration, error) {
	var h, m int
	var sec float64
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected HH:MM:SS.mmm")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	sec, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
