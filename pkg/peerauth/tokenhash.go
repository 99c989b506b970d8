package peerauth

import "golang.org/x/crypto/bcrypt"

// TokenHashCost is the bcrypt cost used for node renewal/access tokens.
// These are high-entropy, randomly generated secrets rather than
// user-chosen passwords, so a lower cost than a password hash is
// acceptable — the attack this guards against is a stolen database
// dump, not online guessing.
const TokenHashCost = 10

// HashToken hashes a node renewal or access token before it is persisted
// to the node registry, so a database dump never discloses live bearer
// credentials.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), TokenHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken reports whether token matches a hash produced by HashToken.
func VerifyToken(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
