// Ratelimit inspects and exercises rate limit buckets in a counter store.
//
// Usage:
//
//	# Account one request for a client
//	ratelimit incr search user_123
//
//	# Show a bucket without changing it
//	ratelimit usage search user_123 --max-requests 10 --window 1s
//
//	# Drive 50 requests at 20 per second and count rejections
//	ratelimit drive search user_123 --rps 20 --count 50
//
//	# Delete every bucket under the configured prefix
//	ratelimit reset --yes
package main

func main() {
	Execute()
}
