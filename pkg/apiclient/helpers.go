package apiclient

import "fmt"

// Generic wrappers over the Client verb methods. Each resource file calls
// these instead of repeating the decode-into-target boilerplate. List
// endpoints on the server wrap their payloads in envelope objects
// (e.g. {"jobs": [...]}), so there is no bare-slice variant; callers decode
// the envelope with getResource and unwrap it themselves.

// getResource performs a GET and decodes the body into T.
func getResource[T any](c *Client, path string) (*T, error) {
	var result T
	if err := c.get(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// createResource performs a POST with the given body and decodes the
// response into T. A nil body sends no payload; cancel and retry use that.
func createResource[T any](c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.post(path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// deleteResource performs a DELETE and discards any response body.
func deleteResource(c *Client, path string) error {
	return c.delete(path, nil)
}

// resourcePath formats a path template. Callers are expected to
// url.PathEscape any identifier they interpolate.
func resourcePath(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
