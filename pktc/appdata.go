package pktc

// parseAppData decodes the application specific data for (doi, kmmid).
// Only SNMPv3 requests and replies have a layout.
func parseAppData(c *cursor, doi DOI, kmmid KMMID) (*AppData, error) {
	if doi != DOISNMPv3 || (kmmid != KMMIDAPRequest && kmmid != KMMIDAPReply) {
		return nil, &DecodeError{
			Err:    ErrUnsupportedDomainOrMessage,
			Field:  FieldAppData,
			Offset: c.off,
		}
	}

	var err error
	ad := &AppData{}
	start := c.off

	if ad.EngineIDLen, err = c.uint8(FieldEngineIDLen); err != nil {
		return nil, err
	}
	if ad.EngineID, err = c.bytes(int(ad.EngineIDLen.Value), FieldEngineID); err != nil {
		return nil, err
	}
	if ad.Boots, err = c.uint32(FieldEngineBoots); err != nil {
		return nil, err
	}
	if ad.Time, err = c.uint32(FieldEngineTime); err != nil {
		return nil, err
	}
	if ad.UserNameLen, err = c.uint8(FieldUserNameLen); err != nil {
		return nil, err
	}
	name, err := c.bytes(int(ad.UserNameLen.Value), FieldUserName)
	if err != nil {
		return nil, err
	}
	ad.UserName = Field[string]{Span: name.Span, Value: string(name.Value)}

	ad.Span = Span{Offset: start, Length: c.off - start}
	return ad, nil
}

// parseCiphersuites decodes a count prefixed ciphersuite list. The entry
// layout depends on the domain; an empty list is valid for any domain.
func parseCiphersuites(c *cursor, doi DOI) (*CiphersuiteList, error) {
	var err error
	list := &CiphersuiteList{}
	start := c.off

	if list.Count, err = c.uint8(FieldCiphersuiteCount); err != nil {
		return nil, err
	}

	list.Suites = make([]Ciphersuite, 0, list.Count.Value)
	for i := 0; i < int(list.Count.Value); i++ {
		if doi != DOISNMPv3 {
			return nil, &DecodeError{
				Err:    ErrUnsupportedDomain,
				Field:  FieldCiphersuite,
				Offset: c.off,
			}
		}

		suite := Ciphersuite{Span: Span{Offset: c.off, Length: 2}}
		auth, err := c.uint8(FieldCiphersuiteAuth)
		if err != nil {
			return nil, err
		}
		transform, err := c.uint8(FieldCiphersuiteTransform)
		if err != nil {
			return nil, err
		}
		suite.Auth = Field[AuthAlgorithm]{Span: auth.Span, Value: AuthAlgorithm(auth.Value)}
		suite.Transform = Field[EncryptionTransform]{Span: transform.Span, Value: EncryptionTransform(transform.Value)}
		list.Suites = append(list.Suites, suite)
	}

	list.Span = Span{Offset: start, Length: c.off - start}
	return list, nil
}
