package credentials

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/telhawk-systems/eventfeed/pkg/sdkerr"
)

// ExpiryFromJWT reads the exp claim of an access token without verifying
// its signature. The token must have exactly three dot-separated segments;
// only the claims segment is decoded.
func ExpiryFromJWT(token string) (int64, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, sdkerr.Config("credentials.ExpiryFromJWT", "not a valid JWT: expected three segments", nil)
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return 0, sdkerr.Config("credentials.ExpiryFromJWT", "cannot decode access token claims", err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return 0, sdkerr.Config("credentials.ExpiryFromJWT", "access token claims are not JSON", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return 0, sdkerr.Config("credentials.ExpiryFromJWT", "unparsable exp claim", err)
	}
	if exp == nil {
		return 0, sdkerr.Config("credentials.ExpiryFromJWT", "access token has no exp claim", nil)
	}
	return exp.Unix(), nil
}
