package ari

import (
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// DialString строит endpoint для originate.
//
// Строка с "/" считается готовым dial string ("PJSIP/1000", "Local/1000@default").
// SIP URI набирается только через транк. Остальное идет через транк,
// если он задан, иначе напрямую на PJSIP endpoint.
func DialString(to, trunk string) (string, error) {
	to = strings.TrimSpace(to)
	trunk = strings.TrimSpace(trunk)
	if to == "" {
		return "", fmt.Errorf("%w: пустой адрес", ErrInvalidDestination)
	}

	lower := strings.ToLower(to)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:") {
		var uri sip.Uri
		if err := sip.ParseUri(to, &uri); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidDestination, to, err)
		}
		if trunk == "" {
			return "", fmt.Errorf("%w: SIP URI %s требует транк", ErrInvalidDestination, to)
		}
		return "PJSIP/" + trunk + "/" + uri.String(), nil
	}

	if strings.Contains(to, "/") {
		return to, nil
	}
	if trunk != "" {
		return "PJSIP/" + trunk + "/" + to, nil
	}
	return "PJSIP/" + to, nil
}

// FormatCallerID возвращает "Имя <номер>" или только номер
func FormatCallerID(name, number string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return number
	}
	return fmt.Sprintf("%s <%s>", name, number)
}
