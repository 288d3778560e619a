// Package auth guards the operator control API with bearer tokens.
//
// Operators present an HS256 JWT in the "authorization" metadata key
// (gRPC) or header (HTTP) as "Bearer <token>". The "sub" claim names the
// operator and is attached to the request context:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	grpc.NewServer(
//		grpc.UnaryInterceptor(auth.UnaryInterceptor(verifier, logger)),
//		grpc.StreamInterceptor(auth.StreamInterceptor(verifier, logger)),
//	)
//
// Device sockets are never authenticated; devices on the shop floor carry
// no credentials.
package auth
