package secrets

import "time"

func (f *File) SetDebounce(d time.Duration) { f.debounce = d }
