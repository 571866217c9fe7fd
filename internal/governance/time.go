package governance

import "time"

// Now is the clock every component stamps records with. Tests replace it
// to control time in assertions.
var Now = time.Now

// Timestamp formats the current time the way every persisted row does.
func Timestamp() string {
	return Now().UTC().Format(time.RFC3339Nano)
}
