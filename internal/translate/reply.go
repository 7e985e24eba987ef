package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errEmptyReply = errors.New("empty reply")

// MissingEntriesError reports the batch indices an indexed reply left out.
type MissingEntriesError struct {
	Missing []int
	Want    int
}

func (e *MissingEntriesError) Error() string {
	return fmt.Sprintf("reply has %d/%d entries, missing %v", e.Want-len(e.Missing), e.Want, e.Missing)
}

// decodeReply unmarshals the first JSON object found in a model reply into
// target. Code fences and prose around the object are skipped.
func decodeReply(reply string, target any) error {
	if strings.TrimSpace(reply) == "" {
		return errEmptyReply
	}

	var firstErr error
	for off := 0; off < len(reply); {
		i := strings.IndexByte(reply[off:], '{')
		if i < 0 {
			break
		}
		start := off + i
		var raw json.RawMessage
		err := json.NewDecoder(strings.NewReader(reply[start:])).Decode(&raw)
		if err == nil {
			if err := json.Unmarshal(raw, target); err != nil {
				return fmt.Errorf("decode reply: %w (%s)", err, clip(string(raw)))
			}
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		off = start + 1
	}

	if firstErr != nil {
		return fmt.Errorf("decode reply: %w (%s)", firstErr, clip(reply))
	}
	return fmt.Errorf("no JSON object in reply (%s)", clip(reply))
}

// decodeIndexed decodes a reply keyed "0".."want-1". A reply that parses but
// lacks some keys returns the partial map with a *MissingEntriesError.
func decodeIndexed[T any](reply string, want int) (map[string]T, error) {
	var got map[string]T
	if err := decodeReply(reply, &got); err != nil {
		return nil, err
	}

	var missing []int
	for i := 0; i < want; i++ {
		if _, ok := got[strconv.Itoa(i)]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return got, &MissingEntriesError{Missing: missing, Want: want}
	}
	return got, nil
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 160 {
		return string(r[:160]) + "..."
	}
	return s
}
