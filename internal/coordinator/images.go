package coordinator

// ImagePut implements image.put: it stores data under sdID's media/
// directory and returns the content-addressed imageId the host editor
// should embed in the note as a notecoveImage reference.
func (c *Coordinator) ImagePut(sdID string, data []byte, ext string) (string, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return "", err
	}
	return sd.images.Put(data, ext)
}

// ImageGet implements image.get: it looks in sdID's own media/ directory
// first, then — since a note referencing an image may have moved here from
// another SD without the image itself needing a local copy — probes every
// other registered SD and copies a hit back locally so
// future lookups are local.
func (c *Coordinator) ImageGet(sdID, imageID string) ([]byte, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return nil, err
	}
	data, getErr := sd.images.Get(imageID)
	if getErr == nil {
		return data, nil
	}

	for _, candidate := range c.RegisteredSDIDs() {
		if candidate == sdID {
			continue
		}
		if data, fromErr := sd.images.GetFromSD(candidate, imageID); fromErr == nil {
			return data, nil
		}
	}
	return nil, getErr
}
