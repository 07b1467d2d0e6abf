package device

// diff returns the fields whose values differ between prev and next.
// Bookkeeping fields (LastSeen, UpdatedAt, Unconfirmed) are not compared.
func diff(prev, next Device) Changes {
	changes := Changes{}

	if prev.Name != next.Name {
		changes[FieldName] = next.Name
	}
	if prev.Model != next.Model {
		changes[FieldModel] = string(next.Model)
	}
	if prev.Online != next.Online {
		changes[FieldOnline] = next.Online
	}
	if prev.Power != next.Power {
		changes[FieldPower] = string(next.Power)
	}
	if prev.Playback != next.Playback {
		changes[FieldPlayback] = string(next.Playback)
	}
	if prev.Source != next.Source {
		changes[FieldSource] = string(next.Source)
	}
	if !intEqual(prev.Volume, next.Volume) {
		changes[FieldVolume] = intValue(next.Volume)
	}
	if !intEqual(prev.Brightness, next.Brightness) {
		changes[FieldBrightness] = intValue(next.Brightness)
	}
	if !stringEqual(prev.CurrentURL, next.CurrentURL) {
		changes[FieldCurrentURL] = stringValue(next.CurrentURL)
	}
	if !stringEqual(prev.Orientation, next.Orientation) {
		changes[FieldOrientation] = stringValue(next.Orientation)
	}
	if prev.FirmwareVersion != next.FirmwareVersion {
		changes[FieldFirmware] = next.FirmwareVersion
	}

	if len(changes) == 0 {
		return nil
	}
	return changes
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func stringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
