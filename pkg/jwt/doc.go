// Package jwt signs and verifies RS256 access tokens.
//
// Tokens carry a subject, a display name and a space-separated scope claim
// that maps onto request credentials:
//
//	svc, err := jwt.NewService(jwt.Config{
//	    PublicKeyPath: "keys/public.pem",
//	    Issuer:        "trellis",
//	    Leeway:        30 * time.Second,
//	})
//	claims, err := svc.Validate(token)
//	if claims.HasScope("admin") { ... }
//
// A service built from a private key can also Sign:
//
//	token, err := svc.Sign(jwt.Claims{Subject: "ada", Scope: "authenticated admin"})
package jwt
