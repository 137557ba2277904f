package cache

// WaitForTest blocks until buffered Ristretto writes are visible.
func WaitForTest(c Cache) {
	if r, ok := c.(*ristrettoCache); ok {
		r.wait()
	}
}
