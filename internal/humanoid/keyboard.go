// internal/humanoid/keyboard.go
package humanoid

import (
	"context"
	"fmt"
	"time"
	"unicode"
)

// keyboardNeighbors maps characters to their adjacent keys on a QWERTY layout.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// Type focuses the element via a click and types the text character by
// character. The base per-character delay is modulated by character class
// plus jitter, with small independent per-character probabilities of a
// corrected typo, a "thinking" pause, and a delete-and-retype of a short
// trailing span. At most one typo-correction happens per full text to keep
// the behavior plausible.
func (h *Humanoid) Type(ctx context.Context, selector string, text string) error {
	h.updateFatigue(float64(len(text)) * 0.05)

	if err := h.Click(ctx, selector); err != nil {
		return fmt.Errorf("humanoid: failed to click/focus selector '%s': %w", selector, err)
	}

	// Pause after focusing to simulate cognitive planning.
	if err := h.CognitivePause(ctx, 200, 80); err != nil {
		return err
	}

	runes := []rune(text)
	typoUsed := false
	retypeUsed := false

	for i := 0; i < len(runes); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := h.charPause(ctx, runes[i]); err != nil {
			return err
		}

		h.mu.Lock()
		cfg := h.dynamicConfig
		rollTypo := h.rng.Float64()
		rollThink := h.rng.Float64()
		rollRetype := h.rng.Float64()
		h.mu.Unlock()

		if rollThink < cfg.ThinkProbability {
			if err := h.CognitivePause(ctx, 600, 250); err != nil {
				return err
			}
		}

		if !typoUsed && rollTypo < cfg.TypoProbability {
			introduced, err := h.introduceTypo(ctx, runes[i])
			if err != nil {
				return fmt.Errorf("humanoid: error during typo simulation: %w", err)
			}
			if introduced {
				typoUsed = true
				continue
			}
		}

		if err := h.sendString(ctx, string(runes[i])); err != nil {
			return fmt.Errorf("humanoid: failed to send key '%c': %w", runes[i], err)
		}

		if !retypeUsed && i >= 4 && i < len(runes)-1 && rollRetype < cfg.RetypeProbability {
			if err := h.retypeTrailingSpan(ctx, runes, i); err != nil {
				return err
			}
			retypeUsed = true
		}
	}
	return nil
}

// charPause sleeps for the inter-key delay appropriate to the upcoming
// character: slower around spaces, punctuation, capitals, and digits.
func (h *Humanoid) charPause(ctx context.Context, next rune) error {
	h.mu.Lock()
	cfg := h.dynamicConfig
	roll := h.rng.Float64()
	fatigue := h.fatigueLevel
	h.mu.Unlock()

	spread := float64(cfg.TypeDelayMaxMs - cfg.TypeDelayMinMs)
	base := float64(cfg.TypeDelayMinMs) + roll*spread
	base *= charClassFactor(next)
	base *= 1.0 + fatigue*0.3

	duration := time.Duration(base) * time.Millisecond
	h.recoverFatigue(duration)
	return h.executor.Sleep(ctx, duration)
}

// charClassFactor slows the cadence for characters that need a reach or a
// modifier on a physical keyboard.
func charClassFactor(r rune) float64 {
	switch {
	case unicode.IsSpace(r):
		return 1.4
	case unicode.IsPunct(r) || unicode.IsSymbol(r):
		return 1.5
	case unicode.IsUpper(r):
		return 1.3
	case unicode.IsDigit(r):
		return 1.2
	default:
		return 1.0
	}
}

// introduceTypo types an adjacent key, notices, backspaces, and types the
// intended character. Returns false when the character has no neighbors to
// mistype (the caller then types it normally).
func (h *Humanoid) introduceTypo(ctx context.Context, char rune) (bool, error) {
	lowerChar := unicode.ToLower(char)
	neighbors, ok := keyboardNeighbors[lowerChar]
	if !ok || len(neighbors) == 0 {
		return false, nil
	}

	h.mu.Lock()
	typoChar := rune(neighbors[h.rng.Intn(len(neighbors))])
	if unicode.IsUpper(char) {
		typoChar = unicode.ToUpper(typoChar)
	}
	h.mu.Unlock()

	if err := h.sendString(ctx, string(typoChar)); err != nil {
		return true, err
	}
	// Noticing the mistake takes a beat.
	if err := h.CognitivePause(ctx, 250, 90); err != nil {
		return true, err
	}
	if err := h.sendString(ctx, string(KeyBackspace)); err != nil {
		return true, err
	}
	if err := h.charPause(ctx, char); err != nil {
		return true, err
	}
	if err := h.sendString(ctx, string(char)); err != nil {
		return true, err
	}
	return true, nil
}

// retypeTrailingSpan deletes the last few typed characters and retypes them
// at a slightly faster cadence, as if second-guessing the wording.
func (h *Humanoid) retypeTrailingSpan(ctx context.Context, runes []rune, i int) error {
	h.mu.Lock()
	span := 2 + h.rng.Intn(3)
	h.mu.Unlock()
	if span > i {
		span = i
	}
	if span < 1 {
		return nil
	}

	if err := h.CognitivePause(ctx, 400, 150); err != nil {
		return err
	}
	for k := 0; k < span; k++ {
		if err := h.sendString(ctx, string(KeyBackspace)); err != nil {
			return err
		}
		if err := h.executor.Sleep(ctx, 90*time.Millisecond); err != nil {
			return err
		}
	}
	for k := i - span + 1; k <= i; k++ {
		h.mu.Lock()
		cfg := h.dynamicConfig
		roll := h.rng.Float64()
		h.mu.Unlock()

		// Retyping known text runs faster than composing it.
		spread := float64(cfg.TypeDelayMaxMs-cfg.TypeDelayMinMs) * 0.6
		delay := (float64(cfg.TypeDelayMinMs) + roll*spread) * 0.7
		if err := h.executor.Sleep(ctx, time.Duration(delay)*time.Millisecond); err != nil {
			return err
		}
		if err := h.sendString(ctx, string(runes[k])); err != nil {
			return err
		}
	}
	return nil
}

// sendString is a unified, private helper for dispatching key events.
func (h *Humanoid) sendString(ctx context.Context, keys string) error {
	if err := h.executor.SendKeys(ctx, keys); err != nil {
		return err
	}
	// Simulate the key "dwell" time after the key press.
	return h.executor.Sleep(ctx, h.keyHoldDuration())
}

// keyHoldDuration calculates how long a key should be held down.
func (h *Humanoid) keyHoldDuration() time.Duration {
	h.mu.Lock()
	cfg := h.dynamicConfig
	randNorm := h.rng.NormFloat64()
	h.mu.Unlock()

	delay := randNorm*cfg.KeyHoldStdDev + cfg.KeyHoldMean
	if delay < 20.0 {
		delay = 20.0
	}
	return time.Duration(delay) * time.Millisecond
}
