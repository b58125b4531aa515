package recovery

// SetMoveDir replaces the directory move used to put restored uploads in
// place.
func SetMoveDir(m *Manager, fn func(src, dst string) error) {
	m.moveDir = fn
}
